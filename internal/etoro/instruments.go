package etoro

// Instrument is the display metadata of a tradable instrument.
type Instrument struct {
	ID          int64
	DisplayName string
	Symbol      string
}

// Instruments is a read-only instrument lookup built for a single run.
type Instruments struct {
	byID map[int64]Instrument
}

func NewInstruments(byID map[int64]Instrument) *Instruments {
	if byID == nil {
		byID = map[int64]Instrument{}
	}
	return &Instruments{byID: byID}
}

func (i *Instruments) Lookup(id int64) (Instrument, bool) {
	in, ok := i.byID[id]
	return in, ok
}

func (i *Instruments) Len() int { return len(i.byID) }
