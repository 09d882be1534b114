package model

import "time"

// AccountStatus is the review state of a seva staff account request.
type AccountStatus string

const (
	AccountPending  AccountStatus = "pending"
	AccountApproved AccountStatus = "approved"
	AccountRejected AccountStatus = "rejected"
)

// Terminal reports whether no further transition is allowed from s.
func (s AccountStatus) Terminal() bool {
	return s == AccountApproved || s == AccountRejected
}

// PendingAccount is a seva staff registration awaiting review by management.
// It is created in AccountPending by registration (outside this service) and
// moves exactly once to AccountApproved or AccountRejected.
//
// Fields:
//  ID         – primary key identifier.
//  Name       – applicant's name.
//  Email      – contact address.
//  AssignedID – staff identifier handed out on registration, e.g. SEVA001.
//  Status     – pending, approved or rejected.
type PendingAccount struct {
	ID         uint64        `json:"id"`                                        // pending_accounts.id
	Name       string        `json:"name" validate:"required,max=200"`         // pending_accounts.name
	Email      string        `json:"email" validate:"required,email,max=320"`  // pending_accounts.email
	AssignedID string        `json:"assigned_id" validate:"required,max=50"`   // pending_accounts.assigned_id
	Status     AccountStatus `json:"status"`                                    // pending_accounts.status
	CreatedAt  time.Time     `json:"created_at"`                                // pending_accounts.created_at
	UpdatedAt  time.Time     `json:"updated_at"`                                // pending_accounts.updated_at
}
