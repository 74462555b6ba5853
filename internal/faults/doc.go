// Package faults defines the error taxonomy shared by the backup engine.
//
// Components tag failures with one of the sentinel markers through Wrap so the
// cycle runner can map them onto outcomes with errors.Is, while the original
// cause stays in the chain for logging.
package faults
