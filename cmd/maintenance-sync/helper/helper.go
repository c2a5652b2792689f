// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package helper

import (
	"database/sql"
	"time"

	"github.com/united-manufacturing-hub/umh-utils/env"
	"github.com/united-manufacturing-hub/umh-utils/logger"
	"go.uber.org/zap"
)

// DateLayout is the dd.MM.yyyy layout used for date keys in the reporting store.
const DateLayout = "02.01.2006"

func InitLogging() *zap.SugaredLogger {
	logLevel, _ := env.GetAsString("LOGGING_LEVEL", false, "PRODUCTION") //nolint:errcheck
	return logger.New(logLevel)
}

func InitTestLogging() {
	_ = logger.New("DEVELOPMENT")
}

// NullStringToString returns "" for NULL.
func NullStringToString(val sql.NullString) string {
	if !val.Valid {
		return ""
	}
	return val.String
}

func NullTimeToPtr(val sql.NullTime) *time.Time {
	if !val.Valid {
		return nil
	}
	t := val.Time
	return &t
}

func NullInt64ToPtr(val sql.NullInt64) *int64 {
	if !val.Valid {
		return nil
	}
	i := val.Int64
	return &i
}

// StringToPtr you probably don't need this outside of tests
func StringToPtr(val string) *string {
	return &val
}

func Float64ToPtr(val float64) *float64 {
	return &val
}
