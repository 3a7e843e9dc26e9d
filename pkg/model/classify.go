package model

import (
	"errors"
	"strings"
)

// Category buckets an AI failure for metrics aggregation. Classification is
// total: every error maps to exactly one category.
type Category string

const (
	CategorySafetyBlock    = Category("SAFETY_BLOCK")
	CategoryQuota          = Category("QUOTA")
	CategoryTimeout        = Category("TIMEOUT")
	CategoryAuth           = Category("AUTH")
	CategoryResponseFormat = Category("AI_RESPONSE_FORMAT")
	CategoryModelConfig    = Category("MODEL_CONFIG")
	CategoryUnknown        = Category("UNKNOWN")
)

// Classify maps a model failure to its aggregation category. The finish
// reason (when the error is a *Error) participates in matching alongside the
// message text.
func Classify(err error) Category {
	if err == nil {
		return CategoryUnknown
	}

	haystack := strings.ToLower(err.Error())
	var me *Error
	if errors.As(err, &me) && me.FinishReason != "" {
		haystack += " " + strings.ToLower(me.FinishReason)
	}

	switch {
	case strings.Contains(haystack, "safety") || errors.Is(err, ErrSafetyBlocked):
		return CategorySafetyBlock
	case strings.Contains(haystack, "quota") || strings.Contains(haystack, "rate limit"):
		return CategoryQuota
	case strings.Contains(haystack, "timeout") || strings.Contains(haystack, "etimedout") ||
		strings.Contains(haystack, "deadline exceeded"):
		return CategoryTimeout
	case strings.Contains(haystack, "unauthorized") || strings.Contains(haystack, "forbidden") ||
		strings.Contains(haystack, "auth") || strings.Contains(haystack, "401") ||
		strings.Contains(haystack, "403"):
		return CategoryAuth
	case strings.Contains(haystack, "json") || strings.Contains(haystack, "parse") ||
		strings.Contains(haystack, "unmarshal") || strings.Contains(haystack, "unexpected token"):
		return CategoryResponseFormat
	case strings.Contains(haystack, "not found") || strings.Contains(haystack, "invalid model") ||
		strings.Contains(haystack, "model is not supported"):
		return CategoryModelConfig
	default:
		return CategoryUnknown
	}
}
