// Package protocol defines the REST request/response types.
package protocol

import "github.com/cloudvault/cloudvault-go/pkg/models"

// ErrorResponse is the error body the backend returns on 4xx/5xx.
type ErrorResponse struct {
	Message string `json:"message"`
}

// MessageResponse is returned by operations that only confirm with text
// (register, activate, forgot/reset password, resend activation).
type MessageResponse struct {
	Message string `json:"message"`
}

// RegisterRequest is the body for POST /api/auth/register.
type RegisterRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

// LoginRequest is the body for POST /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// GoogleLoginRequest is the body for POST /api/auth/google.
// The profile fields are extracted client-side from the identity
// assertion; the backend re-validates the credential itself.
type GoogleLoginRequest struct {
	Credential string `json:"credential"`
	Email      string `json:"email"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	GoogleID   string `json:"googleId"`
}

// LoginResponse is returned by POST /api/auth/login and /api/auth/google.
type LoginResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// MeResponse is returned by GET /api/auth/me.
type MeResponse struct {
	User *models.User `json:"user"`
}

// ForgotPasswordRequest is the body for POST /api/auth/forgot-password.
type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

// ResetPasswordRequest is the body for POST /api/auth/reset-password/{token}.
type ResetPasswordRequest struct {
	Password string `json:"password"`
}

// ResendActivationRequest is the body for POST /api/auth/resend-activation.
type ResendActivationRequest struct {
	Email string `json:"email"`
}

// ListResponse is returned by GET /api/files?parentFolder={id|empty}.
// Files holds a mixed array of file and folder nodes; the client
// partitions by kind.
type ListResponse struct {
	Files []*models.Node `json:"files"`
}

// UploadResponse is returned by POST /api/files/upload.
// StorageUsed is the account's new quota figure; nil when the backend
// omits it, in which case the client re-resolves the profile.
type UploadResponse struct {
	File        *models.Node `json:"file"`
	StorageUsed *int64       `json:"storageUsed,omitempty"`
}

// FolderCreateRequest is the body for POST /api/files/folder.
type FolderCreateRequest struct {
	Name         string `json:"name"`
	ParentFolder string `json:"parentFolder"`
}

// FolderCreateResponse is returned by POST /api/files/folder.
type FolderCreateResponse struct {
	Folder *models.Node `json:"folder"`
}

// DeleteResponse is returned by DELETE /api/files/{id}.
type DeleteResponse struct {
	StorageUsed *int64 `json:"storageUsed,omitempty"`
}

// DownloadResponse is returned by GET /api/files/{id}/download.
// DownloadURL is a short-lived retrieval URL.
type DownloadResponse struct {
	DownloadURL string `json:"downloadUrl"`
	FileName    string `json:"fileName"`
}
