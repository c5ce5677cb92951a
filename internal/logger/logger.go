package logger

import (
	"strings"

	"go.uber.org/zap"
)

// New builds a production logger for "prod"/"production" and a development one otherwise.
func New(mode string) (*zap.Logger, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "prod", "production":
		return zap.NewProduction()
	default:
		return zap.NewDevelopment()
	}
}
