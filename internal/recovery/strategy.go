package recovery

// Action is the corrective step the fetch loop takes before (or instead of)
// the next attempt.
type Action string

const (
	ActionWaitAndRetry       Action = "wait_and_retry"
	ActionGetPartialContent  Action = "get_partial_content"
	ActionExtendedWait       Action = "extended_wait"
	ActionReinitializeDriver Action = "reinitialize_driver"
	ActionManualIntervention Action = "manual_intervention"
	ActionWaitForCloudflare  Action = "wait_for_cloudflare"
	ActionSkip               Action = "skip"
	ActionUseFallback        Action = "use_fallback"
)

// Strategy tells the fetch loop whether to retry, how long to sleep before
// the next attempt (a randomized duration inside [WaitMin, WaitMax] seconds),
// which corrective action to take, and whether the browser session has to be
// rebuilt first.
type Strategy struct {
	ShouldRetry    bool
	WaitMin        int
	WaitMax        int
	Action         Action
	RequiresReinit bool
}

// StrategyFor returns the recovery strategy for an error kind at the given
// retry count. The table is deterministic: same kind and count, same
// strategy. Blocked escalates its wait bounds linearly with the retry count
// and forces a session rebuild from the third attempt on.
func StrategyFor(kind ErrorKind, retryCount int) Strategy {
	switch kind {
	case KindNetwork:
		return Strategy{
			ShouldRetry: retryCount < 3,
			WaitMin:     5,
			WaitMax:     10,
			Action:      ActionWaitAndRetry,
		}
	case KindTimeout:
		return Strategy{
			ShouldRetry: retryCount < 3,
			WaitMin:     3,
			WaitMax:     8,
			Action:      ActionGetPartialContent,
		}
	case KindBlocked:
		return Strategy{
			ShouldRetry:    retryCount < 5,
			WaitMin:        30 + retryCount*10,
			WaitMax:        45 + retryCount*15,
			Action:         ActionExtendedWait,
			RequiresReinit: retryCount >= 2,
		}
	case KindInvalidSession:
		return Strategy{
			ShouldRetry:    retryCount < 3,
			WaitMin:        2,
			WaitMax:        5,
			Action:         ActionReinitializeDriver,
			RequiresReinit: true,
		}
	case KindRateLimit:
		return Strategy{
			ShouldRetry: retryCount < 3,
			WaitMin:     60,
			WaitMax:     120,
			Action:      ActionExtendedWait,
		}
	case KindCaptcha:
		return Strategy{
			ShouldRetry: false,
			Action:      ActionManualIntervention,
		}
	case KindCloudflare:
		return Strategy{
			ShouldRetry: true,
			WaitMin:     5,
			WaitMax:     15,
			Action:      ActionWaitForCloudflare,
		}
	case KindPageError:
		return Strategy{
			ShouldRetry: retryCount < 2,
			WaitMin:     2,
			WaitMax:     5,
			Action:      ActionSkip,
		}
	case KindElementNotFound:
		return Strategy{
			ShouldRetry: retryCount < 2,
			WaitMin:     1,
			WaitMax:     3,
			Action:      ActionUseFallback,
		}
	case KindMemoryError:
		return Strategy{
			ShouldRetry: false,
			Action:      ActionManualIntervention,
		}
	default:
		// ModalInterruption, Redirect, JavascriptError and Unknown share
		// the conservative default.
		return Strategy{
			ShouldRetry: retryCount < 2,
			WaitMin:     3,
			WaitMax:     6,
			Action:      ActionWaitAndRetry,
		}
	}
}
