package ports

import (
	"github.com/gin-gonic/gin"
)

type StatsHTTPHandler interface {
	GetSummaries(c *gin.Context)
	GetSummary(c *gin.Context)
	GetLatest(c *gin.Context)
	StartPolling(c *gin.Context)
	StopPolling(c *gin.Context)
}
