package enums

// SplitMode controls whether an order total is divided across payers.
type SplitMode string

const (
	SplitModeNone  SplitMode = "none"
	SplitModeSplit SplitMode = "split"
)

var splitModes = []SplitMode{SplitModeNone, SplitModeSplit}

func (s SplitMode) String() string { return string(s) }

func (s SplitMode) IsValid() bool { return isMember(splitModes, s) }

func ParseSplitMode(value string) (SplitMode, error) {
	return parseMember(splitModes, "split mode", value)
}
