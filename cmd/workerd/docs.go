package main

// General API documentation for swaggo. Run `make swagger-gen` to generate docs.
//
// @title           workerd API
// @version         1.0
// @description     HTTP API for model worker pool management and request dispatch.
//
// @contact.name   workerd maintainers
// @contact.url    https://github.com/your-org/workerd
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
