package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// StudentAnswersKey returns the cache key for a student's mirrored answers.
func (r *CacheKeyStruct) StudentAnswersKey(examID string, studentID int) string {
	return fmt.Sprintf("student:%d:exam:%s:answers", studentID, examID)
}

// StudentSessionStartKey returns the cache key for a student's session start time.
func (r *CacheKeyStruct) StudentSessionStartKey(examID string, studentID int) string {
	return fmt.Sprintf("student:%d:exam:%s:session_start", studentID, examID)
}

// StudentViolationCountKey returns the cache key for a student's remote violation count.
func (r *CacheKeyStruct) StudentViolationCountKey(examID string, studentID int) string {
	return fmt.Sprintf("student:%d:exam:%s:violations", studentID, examID)
}

var CacheKey = NewCacheKeyStruct()
