/*
Package database opens the GORM connection used by the user-memory store and
manages its pool.

# Overview

Open selects a dialector by driver name: postgres for deployments and a
pure-Go sqlite for local runs. PoolManager applies pool limits, runs a
periodic health check and forwards connection counts to a StatsReporter.
*/
package database
