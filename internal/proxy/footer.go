package proxy

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/pressgate/pressgate/internal/settings"
)

var closingHTML = []byte("</html>")

// hasClosingHTML 判断缓冲区是否包含 </html>，页脚只追加到完整的 HTML 文档。
func hasClosingHTML(body []byte) bool {
	return bytes.Contains(bytes.ToLower(body), closingHTML)
}

// cachedByFooter 生成写入缓存副本的注释页脚，时间按站点时区与日期格式输出。
func cachedByFooter(s settings.Settings, modTime time.Time, mobile, gzip bool) string {
	loc := s.Location()
	local := modTime.In(loc)
	stamp := formatPHPDate(s.DateFormat+" "+s.TimeFormat, local)

	zone := s.TimezoneString
	if zone == "" {
		zone = "UTC"
	}
	_, offsetSeconds := local.Zone()
	offset := strconv.FormatFloat(float64(offsetSeconds)/3600, 'f', -1, 64)

	label := "Cached by Pressgate"
	if gzip {
		label += " (gzip)"
	}
	if mobile {
		label += " - for mobile devices"
	}
	return fmt.Sprintf("\n<!-- %s - Last modified: %s (%s UTC:%s) -->\n", label, stamp, zone, offset)
}

// notCachedComment 是调试模式下追加到响应中的未缓存原因。
func notCachedComment(message string) string {
	return fmt.Sprintf("\n<!-- Pressgate page cache - page not cached, because: %s -->\n", message)
}
