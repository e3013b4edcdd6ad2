package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// OpenFormKey returns the cache key for an open form's definition
func (r *CacheKeyStruct) OpenFormKey(formID string) string {
	return fmt.Sprintf("form:%s:open", formID)
}

// FormResponsesChannel returns the Redis PubSub channel name for a form's accepted responses
func (r *CacheKeyStruct) FormResponsesChannel(formID string) string {
	return fmt.Sprintf("form:%s:responses", formID)
}

var CacheKey = NewCacheKeyStruct()
