/*
 * Copyright (c) "BoltGraph"
 * BoltGraph Authors
 *
 * This file is part of graphdb-go-driver.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *      https://www.apache.org/licenses/LICENSE-2.0
 *
 *  Unless required by applicable law or agreed to in writing, software
 *  distributed under the License is distributed on an "AS IS" BASIS,
 *  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *  See the License for the specific language governing permissions and
 *  limitations under the License.
 */

package graphdb

import (
	"context"

	"github.com/boltgraph/graphdb-go-driver/internal/db"
)

// Result is the handle a Run call returns. Record iteration, field decoding
// and summary counters are a separate concern this core does not implement
// (there is no result-cursor component in the system overview); Result only
// names the handle so Session/Transaction.Run has something to return and a
// caller has something to hand to a real result-streaming collaborator.
type Result interface {
	// Handle is the opaque stream token the Connection.Run call produced.
	Handle() db.StreamHandle
}

type result struct {
	handle db.StreamHandle
}

func newResult(_ context.Context, handle db.StreamHandle) Result {
	return &result{handle: handle}
}

func (r *result) Handle() db.StreamHandle { return r.handle }
