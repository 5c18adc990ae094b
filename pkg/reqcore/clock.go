package reqcore

import "time"

// now is indirected so tests can freeze time without sleeping.
var now = time.Now
