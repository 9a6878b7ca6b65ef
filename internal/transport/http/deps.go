package http

import (
	"github.com/dayloop/dayloop-server/internal/application/delivery"
	"github.com/dayloop/dayloop-server/internal/infrastructure/dynamo"
	jwtinfra "github.com/dayloop/dayloop-server/internal/infrastructure/jwt"
	s3infra "github.com/dayloop/dayloop-server/internal/infrastructure/s3"
)

// Deps holds the infrastructure dependencies the router wires into services.
type Deps struct {
	UserRepo       *dynamo.UserRepo
	CredentialRepo *dynamo.CredentialRepo
	OTPRepo        *dynamo.OTPRepo
	Queue          *delivery.Queue
	JWTProvider    *jwtinfra.Provider
	ReportArchive  *s3infra.Store
}
