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

// Bookmarks is an opaque set of causal tokens a session hands back after a
// transaction, and that a later session can present to make sure the server
// it lands on is at least as up to date.
type Bookmarks []string

// CombineBookmarks merges any number of bookmark sets into one, de-duplicated
// set suitable for passing as SessionConfig.Bookmarks. It is the one
// supported way to fan bookmarks back in after running work across several
// sessions concurrently.
func CombineBookmarks(sets ...Bookmarks) Bookmarks {
	seen := make(map[string]struct{})
	var combined Bookmarks
	for _, set := range sets {
		for _, b := range set {
			if b == "" {
				continue
			}
			if _, ok := seen[b]; ok {
				continue
			}
			seen[b] = struct{}{}
			combined = append(combined, b)
		}
	}
	return combined
}

func cleanupBookmarks(bookmarks []string) []string {
	hasBad := false
	for _, b := range bookmarks {
		if len(b) == 0 {
			hasBad = true
			break
		}
	}
	if !hasBad {
		return bookmarks
	}
	cleaned := make([]string, 0, len(bookmarks))
	for _, b := range bookmarks {
		if len(b) > 0 {
			cleaned = append(cleaned, b)
		}
	}
	return cleaned
}
