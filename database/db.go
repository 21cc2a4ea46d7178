package database

import (
	"database/sql"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/corebank/config"
	"github.com/blnkfinance/corebank/model"
)

var instance *Datasource
var once sync.Once

// Datasource is the Postgres implementation of IDataSource.
type Datasource struct {
	Conn *sql.DB
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		con.SetMaxOpenConns(configuration.DataSource.MaxOpenConns)
		con.SetMaxIdleConns(configuration.DataSource.MaxIdleConns)
		con.SetConnMaxLifetime(time.Duration(configuration.DataSource.ConnMaxLifetimeSec) * time.Second)
		instance = &Datasource{Conn: con}
	})
	if err != nil {
		return nil, err
	}
	if instance == nil {
		return nil, errors.New("database connection was not initialised")
	}
	return instance, nil
}

// ConnectDB opens the Postgres pool and makes sure the corebank schema exists.
// Tables are created by the migrate command.
func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}
	err = db.Ping()
	if err != nil {
		logrus.Errorf("database connection error: %v", err)
		return nil, err
	}
	_, err = db.Exec(`CREATE SCHEMA IF NOT EXISTS corebank`)
	if err != nil {
		return nil, errors.Wrap(err, "create corebank schema")
	}
	return db, nil
}

// classifyPQError turns constraint violations into domain errors.
func classifyPQError(err error, msg string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Name() {
		case "unique_violation":
			return errors.Wrap(model.ErrAlreadyExists, msg)
		case "check_violation":
			return errors.Wrap(model.ErrInsufficientFunds, msg)
		case "foreign_key_violation":
			return errors.Wrap(model.ErrAccountNotFound, msg)
		}
	}
	return errors.Wrap(err, msg)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
