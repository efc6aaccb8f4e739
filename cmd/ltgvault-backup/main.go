// ltgvault-backup takes encrypted snapshots of the LTG Vault database and
// restores them.
//
// Usage:
//
//	# Snapshot the live database and upload it
//	ltgvault-backup create
//
//	# Show stored snapshots, newest first
//	ltgvault-backup list
//
//	# Restore the newest snapshot (server stopped)
//	ltgvault-backup restore --latest
//
// Settings come from LTGV_DB_PATH and LTGV_BACKUP_* (a .env file is read
// when present).
package main

func main() {
	Execute()
}
