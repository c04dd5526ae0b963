package main

import (
	"net/http"

	"github.com/captainace/backend/internal/handlers"
	"github.com/captainace/backend/internal/middleware"
)

// RegisterV1Routes adds the /v1/ settlement endpoints to the given mux.
// Middleware chain: BearerAuth -> CaptureBody -> handler.
func RegisterV1Routes(mux *http.ServeMux, th *handlers.TaskHandler, tokens middleware.TokenValidator) {
	auth := middleware.BearerAuth(tokens)
	capture := middleware.CaptureBody(middleware.DefaultMaxBody)
	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, auth(capture(h)))
	}

	// Tasks
	handle("POST /v1/tasks", th.CreateTask)
	handle("GET /v1/tasks/{id}", th.GetTask)
	handle("POST /v1/tasks/{id}/accept", th.AcceptTask)
	handle("POST /v1/tasks/{id}/start", th.StartTask)
	handle("POST /v1/tasks/{id}/submit", th.SubmitTask)
	handle("POST /v1/tasks/{id}/approve", th.ApproveTask)
	handle("POST /v1/tasks/{id}/release", th.ReleasePayment)
	handle("POST /v1/tasks/{id}/dispute", th.DisputeTask)
	handle("POST /v1/tasks/{id}/cancel", th.CancelTask)

	// Disputes
	handle("GET /v1/disputes/{id}", th.GetDispute)
	handle("POST /v1/disputes/{id}/resolve", th.ResolveDispute)
	handle("POST /v1/disputes/{id}/review", th.ReviewDispute)

	// Wallet
	handle("GET /v1/wallet", th.GetWallet)
	handle("POST /v1/wallet/deposit", th.Deposit)
	handle("POST /v1/wallet/withdraw", th.Withdraw)

	// Admin
	handle("GET /v1/admin/wallets/{user_id}", th.GetWallet)
	handle("POST /v1/admin/wallet/credit", th.AdminCredit)
	handle("POST /v1/admin/tasks/{id}/force-complete", th.ForceComplete)
}
