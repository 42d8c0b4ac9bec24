// Package app composes the tip pipeline.
//
// Application wires the services under internal/app/services to their stores
// and external collaborators. The layout is:
//
//	internal/app/
//	├── application.go   wiring and lifecycle
//	├── domain/          tip and account models
//	├── storage/         store interfaces, memory and postgres implementations
//	├── processor/       payment processor client, mock and webhook parsing
//	├── events/          lifecycle event publishing
//	├── services/        admission, settlement, reconcile, sweeper and friends
//	├── httpapi/         HTTP handlers and routing
//	├── runtime/         process runtime: database, brokers, HTTP server
//	├── system/          service lifecycle manager
//	└── metrics/         Prometheus collectors
//
// Business rules live in the services; this package only decides which
// implementation each service receives.
package app
