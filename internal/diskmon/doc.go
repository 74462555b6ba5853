// Package diskmon reports free space on the backup volume and applies the
// admission rule used before a backup cycle touches the live server.
package diskmon
