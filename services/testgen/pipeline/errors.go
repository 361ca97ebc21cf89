// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import "errors"

var (
	// ErrNilContext indicates a nil context was passed.
	ErrNilContext = errors.New("context must not be nil")

	// ErrNilClient indicates the orchestrator was built without a
	// generation client.
	ErrNilClient = errors.New("generation client must not be nil")

	// ErrQuotaExhausted wraps a provider quota failure that aborted
	// the remaining batch.
	ErrQuotaExhausted = errors.New("provider quota exhausted, batch aborted")

	// ErrProviderRejected wraps a non-retryable provider failure,
	// such as an invalid API key, that aborted the remaining batch.
	ErrProviderRejected = errors.New("provider rejected the request, batch aborted")

	// ErrTestWriteFailed indicates a test file could not be written.
	ErrTestWriteFailed = errors.New("test file write failed")

	// ErrRollbackFailed indicates written files could not all be
	// restored.
	ErrRollbackFailed = errors.New("rollback failed")
)
