package store

// Storage keys shared with the browser UI.
const (
	KeyLoggedIn       = "twin_user_logged_in"
	KeyEmail          = "twin_user_email"
	KeyToken          = "twin_supabase_token"
	KeyPredictions    = "twin_predictions"
	KeyMessagesBasic  = "twin_messages_basic"
	KeyMessagesPlus   = "twin_messages_plus"
	KeyLastQuery      = "twin_last_query"
	KeyThemeCSS       = "twin_theme_css"
	messagesKeyPrefix = "twin_messages_"
)

// MessagesKey is the snapshot key of a pane.
func MessagesKey(pane string) string {
	return messagesKeyPrefix + pane
}

// ChatKeys are the keys a fresh load of the chat view clears.
var ChatKeys = []string{KeyMessagesBasic, KeyMessagesPlus, KeyLastQuery}

func paneOfKey(key string) (string, bool) {
	switch key {
	case KeyMessagesBasic, KeyMessagesPlus:
		return key[len(messagesKeyPrefix):], true
	}
	return "", false
}
