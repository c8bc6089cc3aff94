package worker

import (
	"github.com/spec-kit/quiz-service/internal/service"
)

// StartAuditWorker registers security audit handlers.
func StartAuditWorker(securityService *service.SecurityService) {
	if securityService == nil {
		return
	}
	securityService.RegisterHandlers()
}
