// Package retry 提供确定性的指数退避重试，供下载引擎与队列轮询共用。
//
// 等待通过可替换的 Sleeper 完成，默认实现监听 context 取消；
// 测试可注入记录型 Sleeper 精确断言 1s, 2s, 4s ... 的等待序列。
package retry
