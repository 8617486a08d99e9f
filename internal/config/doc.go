// Package config 负责加载 PluginHub 守护进程的 YAML 配置，包括管理 API、
// 指标、日志、事件日志驱动以及插件清单。
package config
