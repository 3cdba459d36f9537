package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// QuizMonitorChannel returns the Redis PubSub channel name for a quiz's
// live proctoring monitor.
func (r *CacheKeyStruct) QuizMonitorChannel(quizID string) string {
	return fmt.Sprintf("quiz:%s:proctor_monitor", quizID)
}

var CacheKey = NewCacheKeyStruct()
