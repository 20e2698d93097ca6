package mate

import (
	"github.com/slamtalk/slamtalk/internal/apperr"
	"github.com/slamtalk/slamtalk/internal/database"
)

func validPosition(p database.Position) bool {
	parsed, err := database.ParsePosition(string(p))
	return err == nil && parsed == p
}

func validateCapacity(max map[database.Position]int) error {
	for pos, m := range max {
		if !validPosition(pos) {
			return apperr.Newf(apperr.InvalidArgument, "unknown position %q", pos)
		}
		if m < 0 {
			return apperr.Newf(apperr.InvalidArgument, "negative capacity %d for %s", m, pos)
		}
	}
	return nil
}

// withCapacity returns a copy of slots with the given maxima applied.
// Positions not named in max keep their capacity.
func withCapacity(slots database.Slots, max map[database.Position]int) (database.Slots, error) {
	if err := validateCapacity(max); err != nil {
		return nil, err
	}

	next := slots.Clone()
	for pos, m := range max {
		s := next[pos]
		if m < s.Current {
			return nil, apperr.Newf(apperr.CapacityDecreaseRejected,
				"%s has %d participants, capacity cannot drop to %d", pos, s.Current, m)
		}
		s.Max = m
		next[pos] = s
	}

	return next, nil
}

func hasRoom(slots database.Slots, pos database.Position) bool {
	s := slots[pos]
	return s.Current < s.Max
}
