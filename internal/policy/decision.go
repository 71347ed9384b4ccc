package policy

import "strings"

// Verdict 是请求进入代理时的缓存判定结果。
type Verdict int

const (
	// VerdictServe 表示可以查找缓存，未命中时捕获源站响应。
	VerdictServe Verdict = iota
	// VerdictMiss 表示静默绕过缓存，既不查找也不捕获，不输出诊断信息。
	VerdictMiss
	// VerdictDisqualified 表示请求不符合缓存条件，需要输出原因。
	VerdictDisqualified
)

func (v Verdict) String() string {
	switch v {
	case VerdictServe:
		return "serve"
	case VerdictMiss:
		return "miss"
	case VerdictDisqualified:
		return "disqualified"
	default:
		return "unknown"
	}
}

// ServeDecision 是 ShouldServe 的结果。
type ServeDecision struct {
	Verdict Verdict
	Reasons []string
}

// Eligible 表示可以查找与捕获缓存。
func (d ServeDecision) Eligible() bool {
	return d.Verdict == VerdictServe
}

// Message 以逗号拼接全部原因。
func (d ServeDecision) Message() string {
	return strings.Join(d.Reasons, ", ")
}

// StoreDecision 是 ShouldStore 的结果。
type StoreDecision struct {
	Store   bool
	Reasons []string
}

// Message 以逗号拼接全部原因。
func (d StoreDecision) Message() string {
	return strings.Join(d.Reasons, ", ")
}

func serve() ServeDecision { return ServeDecision{Verdict: VerdictServe} }

func miss() ServeDecision { return ServeDecision{Verdict: VerdictMiss} }

func disqualified(reasons []string) ServeDecision {
	return ServeDecision{Verdict: VerdictDisqualified, Reasons: reasons}
}
