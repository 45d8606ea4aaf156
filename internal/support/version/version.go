// Package version хранит метаданные сборки приложения.
package version

// AppName — отображаемое имя приложения.
const AppName = "emby-adminbot"

// Version переопределяется при сборке через -ldflags "-X ...version.Version=v1.2.3".
var Version = "dev"
