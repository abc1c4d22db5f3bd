package purge

import "time"

// AgeMinutes returns the whole minutes elapsed between modified and now,
// truncated. ok is false when modified lies in the future (clock skew),
// so callers never see a wrapped or negative age.
func AgeMinutes(modified, now time.Time) (minutes int64, ok bool) {
	if modified.After(now) {
		return 0, false
	}
	// time.Time.Sub saturates instead of overflowing for far-apart times.
	return int64(now.Sub(modified) / time.Minute), true
}

// IsOldEnough reports whether an entry modified at modified has been
// untouched for at least minAgeMinutes whole minutes at now.
func IsOldEnough(modified, now time.Time, minAgeMinutes uint32) bool {
	age, ok := AgeMinutes(modified, now)
	if !ok {
		return false
	}
	return age >= int64(minAgeMinutes)
}
