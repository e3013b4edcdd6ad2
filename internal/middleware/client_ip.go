package middleware

import (
	"net"
	"strings"

	"github.com/gin-gonic/gin"
)

// HeaderConnectingIP is set by the edge proxy to the original client address.
const HeaderConnectingIP = "CF-Connecting-IP"

// ClientIP returns the submitter's address: the edge proxy header when it
// holds a valid IP, else the address Gin resolved for the request.
func ClientIP(c *gin.Context) string {
	if v := strings.TrimSpace(c.GetHeader(HeaderConnectingIP)); v != "" && net.ParseIP(v) != nil {
		return v
	}
	return c.ClientIP()
}
