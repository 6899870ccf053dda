package profile

import (
	"errors"
	"time"
)

// ErrBirthNotInPast is returned when a birth date is not strictly before the
// reference time.
var ErrBirthNotInPast = errors.New("birth date is not in the past")

// AgeAt returns the age in whole years of someone born at birth, measured at
// now. Both times are compared as calendar dates in UTC.
func AgeAt(birth, now time.Time) (int, error) {
	birth = birth.UTC()
	now = now.UTC()
	if !birth.Before(now) {
		return AgeUnknown, ErrBirthNotInPast
	}

	age := now.Year() - birth.Year()
	if now.Month() < birth.Month() || (now.Month() == birth.Month() && now.Day() < birth.Day()) {
		age--
	}
	return age, nil
}
