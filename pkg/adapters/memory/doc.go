// Package memory provides in-process implementations of the Vellora ports:
// a record/code store, a recording messenger and a fake payment processor.
// None of them survive a restart; they back tests and local development.
package memory
