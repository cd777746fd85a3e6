// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HSG Members Contributors

// Package auth is the credential and session authority of the membership
// backend.
//
// # Domain Types
//
// Users, login tokens, password resets and email verifications are plain
// structs persisted through the repository interfaces declared here. Users
// should be created with NewUser, which validates the email and names.
//
// # Services
//
// Service types coordinate domain operations:
//   - TokenService - issues, verifies and revokes login tokens
//   - Service - login and logout
//   - PasswordResetService - password reset flow with anti-enumeration delay
//   - Guard - bearer header parsing and role checks
//   - Coordinator - ban, password change and membership changes
//   - RegistrationService - account creation and email verification
//
// Multi-step writes run inside a Transactor unit of work. Repositories join
// the transaction carried by the context they are called with.
package auth
