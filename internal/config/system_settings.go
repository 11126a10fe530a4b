package config

import (
	"os"
	"strconv"
)

const DATABASE_TYPE = "STATOR_DATABASE_TYPE"
const DATABASE_URL = "STATOR_DATABASE_URL"
const DATABASE_SQLLITE_FILE_NAME = "STATOR_DATABASE_SQLLITE_FILE_NAME"
const ENGINE_SERVER_WEB_PORT = "STATOR_ENGINE_SERVER_WEB_PORT"
const ENGINE_CHECK_DB_INTERVAL = "STATOR_ENGINE_CHECK_DB_INTERVAL"
const ENGINE_STUCK_EXECUTIONS_INTERVAL = "STATOR_ENGINE_STUCK_EXECUTIONS_INTERVAL"
const ENGINE_STUCK_EXECUTIONS_REPAIR_AFTER_MINUTES = "STATOR_ENGINE_STUCK_EXECUTIONS_REPAIR_AFTER_MINUTES"
const ENGINE_BATCH_SIZE = "STATOR_ENGINE_BATCH_SIZE"         //number of executions to pull from the database at a time
const ENGINE_EXECUTOR_GROUP = "STATOR_ENGINE_EXECUTOR_GROUP" //the group id of the executor that it will process jobs from
const ENGINE_EXECUTOR_SIZE = "STATOR_ENGINE_EXECUTOR_SIZE"   //number of workers to run ie the parallel nature of the jobs
const EXECUTOR_NAME = "STATOR_EXECUTOR_NAME"
const WEB_SESSION_EXPIRY_HOURS = "STATOR_WEB_SESSION_EXPIRY_HOURS"

const DATABASE_TYPE_POSTGRES = "POSTGRES"
const DATABASE_TYPE_MYSQL = "MYSQL"
const DATABASE_TYPE_SQLLITE = "SQLLITE"

func GetSystemSettingInteger(settingKey string) int {
	val := GetSystemSettingString(settingKey)
	if val != "" {
		intValue, _ := strconv.Atoi(val)
		return intValue
	}
	return 0
}

func GetSystemSettingString(settingKey string) string {
	val := os.Getenv(settingKey)
	if val != "" {
		return val
	}
	if settingKey == ENGINE_CHECK_DB_INTERVAL {
		return "3s"
	}
	if settingKey == ENGINE_STUCK_EXECUTIONS_INTERVAL {
		return "60s"
	}
	if settingKey == ENGINE_BATCH_SIZE {
		return "5"
	}
	if settingKey == ENGINE_STUCK_EXECUTIONS_REPAIR_AFTER_MINUTES {
		return "5"
	}
	if settingKey == ENGINE_EXECUTOR_SIZE {
		return "5"
	}
	if settingKey == ENGINE_EXECUTOR_GROUP {
		return "default"
	}
	if settingKey == ENGINE_SERVER_WEB_PORT {
		return "8080"
	}
	if settingKey == WEB_SESSION_EXPIRY_HOURS {
		return "1"
	}
	if settingKey == DATABASE_SQLLITE_FILE_NAME {
		return "./stator.db"
	}
	return ""
}
