// Package resource maps incoming requests onto resource classes and cache
// strategy profiles. Classification is a pure function over the request
// method/URL plus a Rules value derived from configuration, which keeps the
// routing decision unit-testable apart from any I/O. The package also owns
// bucket naming: shell/data buckets embed the deploy build identifier while
// the images bucket stays stable across deploys.
package resource
