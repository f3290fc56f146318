package worker

import (
	"github.com/spec-kit/lms-api/internal/service"
)

// StartAuditWorker registers audit handlers.
func StartAuditWorker(auditService *service.AuditService) {
	if auditService == nil {
		return
	}
	auditService.RegisterHandlers()
}
