package group

type Group uint8

const (
	GroupInvalid Group = 0
	GroupTick    Group = 1
	GroupTimer   Group = 2
)

func (g Group) String() string {
	switch g {
	case GroupInvalid:
		return "Invalid Group"
	case GroupTick:
		return "Tick"
	case GroupTimer:
		return "Timer"
	default:
		return "Unknown Group"
	}
}
