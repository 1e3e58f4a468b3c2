package testutils

import (
	"fmt"
	"os"
	"os/exec"
	"os/user"
)

// PrepareDBConnectionString returns a Postgres connection string for tests.
// Connection parameters come from POSTGRES_USER / POSTGRES_DB /
// POSTGRES_PASSWORD / POSTGRES_HOST; when user or database are missing we
// fall back to the local environment: the current OS user, and a freshly
// recreated database named wantDBName.
func PrepareDBConnectionString(wantDBName string) string {
	dbUser := os.Getenv("POSTGRES_USER")
	if dbUser == "" {
		u, err := user.Current()
		if err != nil {
			fmt.Println("cannot get current user: ", err)
			os.Exit(2)
		}
		dbUser = u.Username
	}

	dbName := os.Getenv("POSTGRES_DB")
	if dbName == "" {
		dbName = recreateLocalDB(wantDBName)
	}

	connStr := fmt.Sprintf("user=%s dbname=%s sslmode=disable", dbUser, dbName)
	if password := os.Getenv("POSTGRES_PASSWORD"); password != "" {
		connStr += " password=" + password
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		connStr += " host=" + host
	}
	return connStr
}

func recreateLocalDB(dbName string) string {
	fmt.Println("Note: tests require a postgres install accessible to the current user")
	dropDB := exec.Command("dropdb", "-f", dbName)
	dropDB.Stdout = os.Stdout
	dropDB.Stderr = os.Stderr
	dropDB.Run()
	createDB := exec.Command("createdb", dbName)
	createDB.Stdout = os.Stdout
	createDB.Stderr = os.Stderr
	if err := createDB.Run(); err != nil {
		fmt.Println("createdb failed: ", err)
		os.Exit(2)
	}
	return dbName
}
