package service

import (
	"github.com/vzahanych/scene-sentry/internal/logger"
)

// ServiceBase carries the name, status and logger shared by services.
type ServiceBase struct {
	name   string
	logger *logger.Logger
	status *ServiceStatus
}

func NewServiceBase(name string, log *logger.Logger) *ServiceBase {
	return &ServiceBase{
		name:   name,
		logger: log.Named(name),
		status: NewServiceStatus(name),
	}
}

func (sb *ServiceBase) Name() string { return sb.name }

func (sb *ServiceBase) Status() *ServiceStatus { return sb.status }

func (sb *ServiceBase) Logger() *logger.Logger { return sb.logger }

func (sb *ServiceBase) LogInfo(msg string, fields ...interface{}) {
	sb.logger.Info(msg, fields...)
}

func (sb *ServiceBase) LogWarn(msg string, fields ...interface{}) {
	sb.logger.Warn(msg, fields...)
}

func (sb *ServiceBase) LogError(msg string, err error, fields ...interface{}) {
	sb.logger.Error(msg, append([]interface{}{"error", err}, fields...)...)
}

func (sb *ServiceBase) LogDebug(msg string, fields ...interface{}) {
	sb.logger.Debug(msg, fields...)
}
