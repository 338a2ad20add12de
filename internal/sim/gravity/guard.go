package gravity

type GuardPhase uint8

const (
	GuardIdle GuardPhase = iota
	// GuardWaiting: controller disabled, waiting for the re-enable delay.
	GuardWaiting
	// GuardSettling: controller re-enabled; one more step before velocity writes resume.
	GuardSettling
)

// TeleportGuard suppresses the motor's velocity write on the authority while a gravity
// teleport settles.
type TeleportGuard struct {
	Phase      GuardPhase
	ReenableAt float64
}

func (g *TeleportGuard) Active() bool { return g.Phase != GuardIdle }

// Begin arms the guard; the controller should be re-enabled delay seconds after now.
func (g *TeleportGuard) Begin(now, delay float64) {
	g.Phase = GuardWaiting
	g.ReenableAt = now + delay
}

// Advance is called once per tick before movement. It reports true on the tick the controller
// must be re-enabled (and velocity re-zeroed).
func (g *TeleportGuard) Advance(now float64) bool {
	switch g.Phase {
	case GuardWaiting:
		if now >= g.ReenableAt {
			g.Phase = GuardSettling
			return true
		}
	case GuardSettling:
		g.Phase = GuardIdle
		g.ReenableAt = 0
	}
	return false
}
