// Package config loads the JSON configuration of the wallet layer and fills
// in defaults for every section the file leaves out.
package config
