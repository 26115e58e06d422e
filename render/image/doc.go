// 版权所有 2024 RenderFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 image 提供统一的图生图 Provider 抽象，屏蔽不同服务商在
请求编码、完成模型与结果交付方式上的差异。

# 概述

每个 Provider 接收一个 types.GenerationRequest，返回本地结果文件路径。
结果统一写入 <results_dir>/<provider>/result_<timestamp>.<ext>。

# 核心接口

  - Provider：Name、Kind、Constraints 与 Generate 四个方法。
  - Checker：可选的连通性检查能力。
  - Result：结果路径、种子、结束原因、任务 ID 等诊断信息。

# 内置实现

  - StructureProvider：multipart 上传源图 + prompt + control_strength，
    同步返回图像字节，响应头携带 seed 与 finish-reason；
    遇到宽高比拒绝时返回 CONSTRAINT_VIOLATION 供调用方重新预处理。
  - QueuedProvider：JSON 请求内嵌 base64 data URI，提交后按
    1s、2s、4s ... 30s 的间隔轮询任务状态，完成后经 transfer.Engine 下载结果。
  - EditProvider：multipart 上传主图与若干参考图（重复的 image[] 字段，
    严格保持调用方顺序），同步返回 base64 JSON。
*/
package image
