package domain

import "time"

// MarketLocation is the NEM's settlement clock: a fixed UTC+10 offset with
// no daylight-saving adjustment, regardless of which state observes DST.
var MarketLocation = time.FixedZone("AEST", 10*60*60)

// MarketNow returns the current time in the NEM market clock.
func MarketNow() time.Time {
	return time.Now().In(MarketLocation)
}
