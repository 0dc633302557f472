package constants

import "time"

const (
	IDRandomBytes = 12

	// Subject lock policy
	LockCooldown      = 7 * 24 * time.Hour
	MinUnlockSessions = 5
	MinUnlockAars     = 3
	MinSessionMinutes = 5
	MinAarWords       = 20

	MaxPlannedMinutes  = 480
	DefaultSessionType = "focus"

	DefaultListLimit = 50
	MaxListLimit     = 200

	MaxAccessCodesPerRequest = 50
	AccessCodeLength         = 10

	NotifyQueueSize = 256
)
