/*
 * Copyright 2025 Cong Wang
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package server

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/amtp-protocol/schemavault/internal/errors"
)

// respondWithError sends a standardized error response
func (s *Server) respondWithError(c *gin.Context, code errors.ErrorCode, message string, details map[string]interface{}) {
	s.respondWithVaultError(c, errors.New(code, message).WithDetails(details))
}

// respondWithVaultError sends an error response from a VaultError
func (s *Server) respondWithVaultError(c *gin.Context, err *errors.VaultError) {
	err.WithRequestID(c.GetString("request_id"))

	statusCode := err.GetHTTPStatus()
	errorResponse := err.ToErrorResponse()

	// Log the error
	logger := s.logger.WithContext(c.Request.Context()).WithFields(map[string]interface{}{
		"status_code": statusCode,
		"error_code":  err.Code,
		"method":      c.Request.Method,
		"path":        c.Request.URL.Path,
		"remote_addr": c.ClientIP(),
	})

	if statusCode >= 500 {
		logger.Error(err.Message, err.Cause)
	} else {
		logger.Warn(err.Message)
	}

	// Record error metrics
	if s.metrics != nil {
		s.metrics.RecordError("server", string(err.Code))
	}

	c.JSON(statusCode, errorResponse)
}

// respondWithErr converts any error into a structured response. Context
// expiry maps to TIMEOUT; unknown errors become INTERNAL_ERROR.
func (s *Server) respondWithErr(c *gin.Context, err error) {
	if vErr, ok := errors.AsVaultError(err); ok {
		s.respondWithVaultError(c, vErr)
		return
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		s.respondWithVaultError(c, errors.Wrap(errors.ErrTimeout, "request timed out", err))
		return
	}
	s.respondWithVaultError(c, errors.NewInternalError("internal server error", err))
}

// withRequestMetrics wraps a handler with request metrics
func (s *Server) withRequestMetrics(handler gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Set("start_time", start)

		// Increment in-flight requests (if metrics enabled)
		if s.metrics != nil {
			s.metrics.IncHTTPRequestsInFlight()
			defer s.metrics.DecHTTPRequestsInFlight()
		}

		// Process request
		handler(c)

		// Record metrics by route template to keep label cardinality bounded
		if s.metrics != nil {
			s.metrics.RecordHTTPRequest(
				c.Request.Method,
				c.FullPath(),
				c.Writer.Status(),
				time.Since(start),
			)
		}
	}
}
