package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New constrói o logger do serviço. Em ENV=local usa o encoder de
// desenvolvimento (colorido, legível); nos demais, JSON de produção.
func New(serviceName string, env string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if env == "local" {
		cfg = zap.NewDevelopmentConfig()
	}

	// serviço e env sempre entram como campos padrão
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := cfg.Build(
		zap.Fields(
			zap.String("service", serviceName),
			zap.String("env", env),
		),
	)
	if err != nil {
		return nil, err
	}
	return l, nil
}
