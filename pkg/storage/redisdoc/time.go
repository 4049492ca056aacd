package redisdoc

import "time"

func isExpired(epochSeconds int64) bool {
	return time.Now().Unix() >= epochSeconds
}
