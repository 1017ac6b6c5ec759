package models

// Screen identifies the single view the shell is showing. The daemon only
// ever changes it through the core transition loop, paired atomically with
// its payload.
type Screen string

const (
	ScreenLanding         Screen = "landing"
	ScreenLogin           Screen = "login"
	ScreenSignup          Screen = "signup"
	ScreenHome            Screen = "home"
	ScreenActivity        Screen = "activity"
	ScreenMessages        Screen = "messages"
	ScreenChat            Screen = "chat"
	ScreenProfile         Screen = "profile"
	ScreenSubscription    Screen = "subscription"
	ScreenWorkerDetail    Screen = "worker-detail"
	ScreenTaskDetail      Screen = "task-detail"
	ScreenSettings        Screen = "settings"
	ScreenPostTask        Screen = "post-task"
	ScreenCompleteProfile Screen = "complete-profile"
	ScreenLegal           Screen = "legal"
	ScreenSafety          Screen = "safety"
	ScreenResetPassword   Screen = "reset-password"
	ScreenChangePassword  Screen = "change-password"
	ScreenRecovery        Screen = "system-recovery"
)

// PreAuth reports whether the screen is reachable without a session. Only
// these screens may be hijacked by a post-authentication redirect.
func (s Screen) PreAuth() bool {
	switch s {
	case ScreenLanding, ScreenLogin, ScreenSignup:
		return true
	default:
		return false
	}
}

func (s Screen) Valid() bool {
	switch s {
	case ScreenLanding, ScreenLogin, ScreenSignup, ScreenHome, ScreenActivity,
		ScreenMessages, ScreenChat, ScreenProfile, ScreenSubscription,
		ScreenWorkerDetail, ScreenTaskDetail, ScreenSettings, ScreenPostTask,
		ScreenCompleteProfile, ScreenLegal, ScreenSafety, ScreenResetPassword,
		ScreenChangePassword, ScreenRecovery:
		return true
	default:
		return false
	}
}
