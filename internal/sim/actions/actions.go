// Package actions defines the fixed action vocabulary offered to the decision
// service. Canonical IDs are stable; display names are localized.
package actions

const (
	Move       = "act_move"
	Chat       = "act_chat"
	Sleep      = "act_sleep"
	Eat        = "act_eat"
	Work       = "act_work"
	Read       = "act_read"
	Rest       = "act_rest"
	PostNotice = "act_post_notice"
)

type Def struct {
	ID        string
	Localized string
	English   string
}

// Vocabulary returns the full action table in registration order.
func Vocabulary() []Def {
	return []Def{
		{ID: Move, Localized: "移动", English: "Move"},
		{ID: Chat, Localized: "聊天", English: "Chat"},
		{ID: Sleep, Localized: "睡觉", English: "Sleep"},
		{ID: Eat, Localized: "吃饭", English: "Eat"},
		{ID: Work, Localized: "工作", English: "Work"},
		{ID: Read, Localized: "阅读", English: "Read"},
		{ID: Rest, Localized: "休息", English: "Rest"},
		{ID: PostNotice, Localized: "发布公告", English: "Post Notice"},
	}
}
