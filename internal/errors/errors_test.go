/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
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

package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategorization(t *testing.T) {
	err := New(ErrCodePoolExhausted, "all %d frames pinned", 8)
	assert.Equal(t, CategoryStorage, err.Category)
	assert.Contains(t, err.Error(), "Storage[5002]")
	assert.Contains(t, err.Error(), "all 8 frames pinned")

	assert.Equal(t, CategoryIndex, New(ErrCodeDuplicateKey, "dup").Category)
	assert.Equal(t, CategoryValidation, New(ErrCodeConfig, "bad").Category)
	assert.Equal(t, CategoryInternal, New(ErrCodeInvariant, "broken").Category)
}

func TestWrapAndUnwrap(t *testing.T) {
	cause := stderrors.New("disk on fire")
	err := Wrap(ErrCodeIO, "flush page 7", cause)
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.True(t, Is(err, ErrCodeIO))
	assert.Equal(t, ErrCodeIO, CodeOf(err))

	// Wrapping through fmt keeps the code reachable.
	outer := fmt.Errorf("shell: %w", err)
	assert.True(t, Is(outer, ErrCodeIO))

	assert.NoError(t, Wrap(ErrCodeIO, "nothing failed", nil))
	assert.Equal(t, ErrCodeInternal, CodeOf(stderrors.New("foreign")))
}
