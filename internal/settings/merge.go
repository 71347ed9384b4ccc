package settings

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// readOnlyKeys 由 Store 维护，不允许通过部分更新修改。
var readOnlyKeys = map[string]struct{}{
	"version":           {},
	"updated_at":        {},
	"page_cache_length": {},
}

// Merge 将部分更新（键名与 JSON 字段一致）叠加到 base 上，未知字段会返回错误。
func Merge(base Settings, partial map[string]any) (Settings, error) {
	raw, err := json.Marshal(base)
	if err != nil {
		return Settings{}, err
	}
	merged := map[string]any{}
	if err := json.Unmarshal(raw, &merged); err != nil {
		return Settings{}, err
	}
	for key, value := range partial {
		if _, known := merged[key]; !known {
			return Settings{}, fmt.Errorf("unknown setting %q", key)
		}
		if _, locked := readOnlyKeys[key]; locked {
			continue
		}
		merged[key] = value
	}

	var out Settings
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           &out,
		DecodeHook:       mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
	})
	if err != nil {
		return Settings{}, err
	}
	if err := decoder.Decode(merged); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	out.Normalize()
	return out, nil
}

// UpdatePartial 按部分字段更新配置，语义与 Update 相同。
func (s *Store) UpdatePartial(partial map[string]any) (Settings, error) {
	_, next, err := s.Transact(func(cur Settings) (Settings, error) {
		merged, err := Merge(cur, partial)
		if err != nil {
			return Settings{}, err
		}
		merged.Version = cur.Version
		return merged, nil
	})
	return next, err
}

// DecodeYAML 将 YAML 文档解析为部分更新，供 CLI 的 -save-settings 使用。
func DecodeYAML(raw []byte) (map[string]any, error) {
	out := map[string]any{}
	if err := yaml.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode settings yaml: %w", err)
	}
	return out, nil
}
