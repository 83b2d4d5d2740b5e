package tui

// Key binding constants used in handleKey.
const (
	KeyQuit       = "q"
	KeyQuitUpper  = "Q"
	KeyCtrlC      = "ctrl+c"
	KeySpace      = " "
	KeyEnter      = "enter"
	KeyManual     = "1"
	KeyTeachable  = "2"
	KeyMediaPipe  = "3"
	KeyClearError = "esc"
)
